package controller

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/nstogner/chatd/pkg/domain"
)

func messages(n int) []domain.Message {
	out := make([]domain.Message, n)
	for i := range out {
		out[i] = domain.UserMessage(fmt.Sprintf("m%d", i), "x")
	}
	return out
}

func ids(msgs []domain.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestWindow(t *testing.T) {
	tests := []struct {
		n    int
		want []string
	}{
		{3, []string{"m0", "m1", "m2"}},
		{10, ids(messages(10))},
		{11, []string{"m0", "m6", "m7", "m8", "m9", "m10"}},
		{20, []string{"m0", "m15", "m16", "m17", "m18", "m19"}},
	}
	for _, tt := range tests {
		got := ids(window(messages(tt.n), 10, 5))
		if !slices.Equal(got, tt.want) {
			t.Errorf("window(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestSmoother(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   []string
		rest   string
	}{
		{"words", []string{"The qu", "ick brown", " fox"}, []string{"The ", "quick ", "brown "}, "fox"},
		{"cjk", []string{"你好", "世界!"}, []string{"你", "好", "世", "界"}, "!"},
		{"mixed", []string{"go 语言"}, []string{"go ", "语", "言"}, ""},
		{"newline", []string{"line\nnext"}, []string{"line\n"}, "next"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s smoother
			var got []string
			for _, d := range tt.deltas {
				got = append(got, s.push(d)...)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("chunks = %q, want %q", got, tt.want)
			}
			if rest := s.flush(); rest != tt.rest {
				t.Errorf("flush = %q, want %q", rest, tt.rest)
			}
			if joined := strings.Join(got, "") + tt.rest; joined != strings.Join(tt.deltas, "") {
				t.Errorf("output %q lost text from %q", joined, strings.Join(tt.deltas, ""))
			}
		})
	}
}

func TestParseTitle(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantErr  bool
	}{
		{`{"name":"Trip","desc":"A trip"}`, "Trip", false},
		{"```json\n{\"name\":\"Trip\",\"desc\":\"\"}\n```", "Trip", false},
		{`Here you go: {"name":"Trip","desc":"x"}`, "Trip", false},
		{`{"name":"An extremely long conversation title","desc":""}`, "An extremely long ", false},
		{`not json`, "", true},
		{`{"name":"","desc":"x"}`, "", true},
	}
	for _, tt := range tests {
		got, err := parseTitle(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTitle(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTitle(%q): %v", tt.in, err)
			continue
		}
		if got.Name != tt.wantName {
			t.Errorf("parseTitle(%q).Name = %q, want %q", tt.in, got.Name, tt.wantName)
		}
	}
}

func TestBuildInstructions(t *testing.T) {
	got := BuildInstructions(PromptData{
		Date:             "2024-05-01 09:00:00 Wednesday",
		Timestamp:        1714554000000,
		ToolsDescription: "Model-autonomous tools:\n- github: github_search_code",
		UserTools:        []string{"web_search"},
	})
	for _, want := range []string{
		"2024-05-01 09:00:00 Wednesday",
		"1714554000000",
		"github_search_code",
		"Active: web_search.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instructions missing %q:\n%s", want, got)
		}
	}

	none := BuildInstructions(PromptData{})
	if !strings.Contains(none, "No user-enabled tools are active") {
		t.Errorf("instructions without user tools:\n%s", none)
	}
}

func TestNewMessageID(t *testing.T) {
	id := newMessageID()
	if !strings.HasPrefix(id, "msg-") || len(id) != len("msg-")+16 {
		t.Errorf("newMessageID() = %q, want msg- followed by 16 characters", id)
	}
	if id == newMessageID() {
		t.Error("newMessageID returned the same ID twice")
	}
}
