package providers

import (
	"fmt"
	"os"
	"strings"
)

// EnvProvider is the environment variable spec.md §6 names for the default
// provider choice.
const EnvProvider = "LLM_PROVIDER"

// Resolve picks a Provider by explicit name, else LLM_PROVIDER, else by
// whichever API key is present, defaulting to Anthropic (spec.md §4.4
// "A provider resolver picks by explicit argument, else by environment
// variable, else by whichever API key is present, defaulting to Anthropic").
func Resolve(explicit string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(explicit))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(os.Getenv(EnvProvider)))
	}
	if name == "" {
		switch {
		case os.Getenv("ANTHROPIC_API_KEY") != "":
			name = "anthropic"
		case os.Getenv("OPENAI_API_KEY") != "":
			name = "openai"
		default:
			name = "anthropic"
		}
	}

	switch name {
	case "anthropic":
		return NewAnthropic(os.Getenv("ANTHROPIC_API_KEY"), firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), DefaultAnthropicModel))
	case "openai":
		return NewOpenAI(os.Getenv("OPENAI_API_KEY"), firstNonEmpty(os.Getenv("OPENAI_MODEL"), DefaultOpenAIModel))
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
