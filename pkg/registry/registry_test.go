package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryActivity(id, taskType string) Activity {
	return Activity{
		ID:          id,
		DisplayName: id,
		TaskType:    taskType,
		Timeout:     "5s",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"query"},
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "minLength": 1},
			},
		},
	}
}

func TestLoadRegistry_ShippedCatalog(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join("..", "..", "configs", "activity-registry.json"))
	require.NoError(t, err)
	require.NoError(t, reg.Validate([]string{"orchestrate-query", "classify-intent", "web-search", "query-service-data"}))

	a, ok := reg.Find("orchestrate-query")
	require.True(t, ok)
	assert.Contains(t, a.ErrorCodes, "INVALID_QUERY")
}

func TestLoadRegistry_Errors(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, os.IsNotExist(err))

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = LoadRegistry(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		activities []Activity
		served     []string
		wantErr    string
	}{
		{
			name:       "valid",
			activities: []Activity{queryActivity("a", "task-a")},
			served:     []string{"task-a"},
		},
		{
			name:    "empty",
			wantErr: "no activities",
		},
		{
			name:       "duplicate id",
			activities: []Activity{queryActivity("a", "task-a"), queryActivity("a", "task-b")},
			wantErr:    "duplicate activity ID",
		},
		{
			name:       "duplicate task type",
			activities: []Activity{queryActivity("a", "task-a"), queryActivity("b", "task-a")},
			wantErr:    "registered twice",
		},
		{
			name:       "missing served task type",
			activities: []Activity{queryActivity("a", "task-a")},
			served:     []string{"task-a", "task-b"},
			wantErr:    "task-b",
		},
		{
			name: "bad timeout",
			activities: []Activity{func() Activity {
				a := queryActivity("a", "task-a")
				a.Timeout = "soon"
				return a
			}()},
			wantErr: "invalid timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &ActivityRegistry{Activities: tt.activities}
			err := reg.Validate(tt.served)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckVariables(t *testing.T) {
	a := queryActivity("a", "task-a")

	problems, err := a.CheckVariables([]byte(`{"query": "what's the weather"}`))
	require.NoError(t, err)
	assert.Empty(t, problems)

	problems, err = a.CheckVariables([]byte(`{"zone": "kitchen"}`))
	require.NoError(t, err)
	assert.Len(t, problems, 1)

	_, err = a.CheckVariables([]byte(`not json`))
	assert.Error(t, err)

	problems, err = (&Activity{ID: "open"}).CheckVariables([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, problems)
}
