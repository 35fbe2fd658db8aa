package controller

import "github.com/nstogner/chatd/pkg/domain"

// window bounds the model-visible history. When there are more than
// threshold messages, only the first message and the last keep messages are
// sent; the first usually carries the conversation's framing.
func window(msgs []domain.Message, threshold, keep int) []domain.Message {
	if len(msgs) <= threshold || keep <= 0 || keep+1 >= len(msgs) {
		return msgs
	}
	out := make([]domain.Message, 0, keep+1)
	out = append(out, msgs[0])
	out = append(out, msgs[len(msgs)-keep:]...)
	return out
}
