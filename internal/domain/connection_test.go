package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mc      ModelConfig
		wantErr bool
	}{
		{name: "key auth", mc: NewModelConfig("https://aoai.example.com/", "key")},
		{name: "entra id", mc: ModelConfig{APIBase: "https://aoai.example.com", UseEntraID: true}},
		{name: "missing base", mc: ModelConfig{APIKey: "key"}, wantErr: true},
		{name: "bad base", mc: ModelConfig{APIBase: "not a url", APIKey: "key"}, wantErr: true},
		{name: "missing key", mc: ModelConfig{APIBase: "https://aoai.example.com"}, wantErr: true},
		{name: "unsupported type", mc: ModelConfig{APIBase: "https://aoai.example.com", APIKey: "k", APIType: "openai"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mc.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConnection)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestModelConfigDefaults(t *testing.T) {
	mc := ModelConfig{APIBase: "https://aoai.example.com//"}.WithDefaults()
	assert.Equal(t, "https://aoai.example.com", mc.APIBase)
	assert.Equal(t, DefaultAPIType, mc.APIType)
	assert.Equal(t, DefaultAPIVersion, mc.APIVersion)
	assert.True(t, ModelConfig{}.IsZero())
}

func TestProjectScope(t *testing.T) {
	scope := ProjectScope{SubscriptionID: "sub", ResourceGroupName: "rg", ProjectName: "proj"}
	assert.NoError(t, scope.Validate())
	assert.Equal(t,
		"/subscriptions/sub/resourceGroups/rg/providers/Microsoft.MachineLearningServices/workspaces/proj",
		scope.WorkspacePath())

	assert.ErrorIs(t, ProjectScope{SubscriptionID: "sub"}.Validate(), ErrInvalidProjectScope)
}
