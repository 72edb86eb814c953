package domain

import (
	"fmt"
	"strings"
)

// Connection defaults for Azure OpenAI deployments.
const (
	DefaultAPIType    = "azure"
	DefaultAPIVersion = "2023-07-01-preview"
)

// ModelConfig describes an Azure OpenAI connection used by LLM-backed flow nodes.
// The key is never serialized; callers that prefer Entra ID authentication set
// UseEntraID and leave APIKey empty.
type ModelConfig struct {
	// APIBase is the resource endpoint, e.g. https://my-aoai.openai.azure.com.
	APIBase string `json:"api_base" yaml:"api_base" validate:"required,url"`

	APIKey string `json:"-" yaml:"api_key" validate:"required_without=UseEntraID"`

	APIType    string `json:"api_type" yaml:"api_type" validate:"omitempty,oneof=azure"`
	APIVersion string `json:"api_version" yaml:"api_version"`

	// UseEntraID authenticates with a bearer token from an Azure Identity credential.
	UseEntraID bool `json:"use_entra_id" yaml:"use_entra_id"`
}

// NewModelConfig builds a connection with default API type and version.
func NewModelConfig(apiBase, apiKey string) ModelConfig {
	return ModelConfig{
		APIBase:    strings.TrimRight(apiBase, "/"),
		APIKey:     apiKey,
		APIType:    DefaultAPIType,
		APIVersion: DefaultAPIVersion,
	}
}

// Validate checks if the connection meets all requirements.
func (m ModelConfig) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConnection, err)
	}
	return nil
}

// WithDefaults fills empty API type and version fields.
func (m ModelConfig) WithDefaults() ModelConfig {
	if m.APIType == "" {
		m.APIType = DefaultAPIType
	}
	if m.APIVersion == "" {
		m.APIVersion = DefaultAPIVersion
	}
	m.APIBase = strings.TrimRight(m.APIBase, "/")
	return m
}

// IsZero reports whether no endpoint has been configured.
func (m ModelConfig) IsZero() bool { return m.APIBase == "" }

// ProjectScope identifies the Azure AI project that hosts the Responsible AI
// service used by content safety evaluators.
type ProjectScope struct {
	SubscriptionID    string `json:"subscription_id" yaml:"subscription_id" validate:"required"`
	ResourceGroupName string `json:"resource_group_name" yaml:"resource_group_name" validate:"required"`
	ProjectName       string `json:"project_name" yaml:"project_name" validate:"required"`
}

// Validate checks if the project scope meets all requirements.
func (p ProjectScope) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProjectScope, err)
	}
	return nil
}

// WorkspacePath returns the ARM resource path of the project workspace.
func (p ProjectScope) WorkspacePath() string {
	return fmt.Sprintf(
		"/subscriptions/%s/resourceGroups/%s/providers/Microsoft.MachineLearningServices/workspaces/%s",
		p.SubscriptionID, p.ResourceGroupName, p.ProjectName,
	)
}
