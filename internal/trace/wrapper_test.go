package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapperPairs(t *testing.T) {
	tests := []struct {
		name     string
		recorded string
		live     string
		want     [][2]string
	}{
		{
			name:     "all containers differ",
			recorded: "a/b/c/d",
			live:     "w/x/y/d",
			want:     [][2]string{{"a/b/c", "w/x/y"}, {"a/b", "w/x"}, {"a", "w"}},
		},
		{
			name:     "stops once prefixes agree",
			recorded: "/html/body/ul/li[1]/a",
			live:     "/html/body/ul/li[7]/a",
			want:     [][2]string{{"/html/body/ul/li[1]", "/html/body/ul/li[7]"}},
		},
		{
			name:     "last step differs",
			recorded: "a/b/c/d",
			live:     "a/b/c/e",
		},
		{
			name:     "unchanged",
			recorded: "a/b",
			live:     "a/b",
		},
		{
			name:     "different depths align from the end",
			recorded: "/t/tr[1]/td",
			live:     "/div/t/tr[3]/td",
			want:     [][2]string{{"/t/tr[1]", "/div/t/tr[3]"}, {"/t", "/div/t"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WrapperPairs(tt.recorded, tt.live))
		})
	}
}
