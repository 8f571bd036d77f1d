package ichat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/guardianbridge/internal/ichat"
)

func TestRequestValidate(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		req := &ichat.Request{
			Model: "gpt-x",
			Messages: []ichat.Message{
				{Role: ichat.RoleUser, Content: []ichat.ContentBlock{ichat.TextBlock("ping")}},
			},
			Tools: []ichat.ToolDef{{Name: "a"}, {Name: "b"}},
		}
		require.NoError(t, req.Validate())
	})

	t.Run("empty message content is rejected", func(t *testing.T) {
		req := &ichat.Request{
			Messages: []ichat.Message{{Role: ichat.RoleUser}},
		}
		assert.ErrorIs(t, req.Validate(), ichat.ErrEmptyMessageContent)
	})

	t.Run("tool message with non tool_result block is rejected", func(t *testing.T) {
		req := &ichat.Request{
			Messages: []ichat.Message{
				{Role: ichat.RoleTool, Content: []ichat.ContentBlock{ichat.TextBlock("oops")}},
			},
		}
		assert.ErrorIs(t, req.Validate(), ichat.ErrToolMessageShape)
	})

	t.Run("duplicate tool names are rejected", func(t *testing.T) {
		req := &ichat.Request{
			Tools: []ichat.ToolDef{{Name: "a"}, {Name: "a"}},
		}
		assert.ErrorIs(t, req.Validate(), ichat.ErrDuplicateToolDefName)
	})
}
