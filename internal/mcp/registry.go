package mcp

import (
	"fmt"
	"strings"
)

// ToolGetYieldPools is the single tool exposed by this server.
const ToolGetYieldPools = "get_yield_pools"

// PromptAnalyzeYields is the single prompt exposed by this server.
const PromptAnalyzeYields = "analyze_yields"

// Tool describes a callable tool for tools/list.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// PromptArgument describes one prompt argument for prompts/list.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Prompt describes a prompt template for prompts/list.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments"`
}

// Tools returns the static tool registry.
func Tools() []Tool {
	return []Tool{
		{
			Name:        ToolGetYieldPools,
			Description: "Fetch DeFi yield pools from the yields.llama.fi API, optionally filtering by chain or project",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"chain": map[string]interface{}{
						"type":        "string",
						"description": "Filter for blockchain (e.g., 'Ethereum', 'Solana')",
					},
					"project": map[string]interface{}{
						"type":        "string",
						"description": "Filter for project name (e.g., 'lido', 'aave-v3')",
					},
				},
			},
		},
	}
}

// Prompts returns the static prompt registry.
func Prompts() []Prompt {
	return []Prompt{
		{
			Name:        PromptAnalyzeYields,
			Description: "Generate a prompt to analyze DeFi yield pools, optionally filtered by chain or project",
			Arguments: []PromptArgument{
				{Name: "chain", Description: "Optional blockchain filter", Required: false},
				{Name: "project", Description: "Optional project filter", Required: false},
			},
		},
	}
}

// RenderAnalyzeYields builds the analysis prompt text. Pure string
// assembly, so identical arguments always produce identical output.
func RenderAnalyzeYields(chain, project string) string {
	var scope strings.Builder
	scope.WriteString("DeFi yield pools")
	if chain != "" {
		fmt.Fprintf(&scope, " on the %s blockchain", chain)
	}
	if project != "" {
		fmt.Fprintf(&scope, " from the %s project", project)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the current %s using the get_yield_pools tool.\n\n", scope.String())
	b.WriteString("For each pool, consider:\n")
	b.WriteString("1. APY (annual percentage yield) and its 30-day mean, flagging pools where the current APY deviates sharply from the mean\n")
	b.WriteString("2. TVL (total value locked in USD) as a proxy for depth and adoption\n")
	b.WriteString("3. The predicted APY class and its confidence, where predictions are available\n\n")
	b.WriteString("Summarize the most attractive opportunities, note any pools whose yields look unsustainable, and call out the risks of the smallest pools by TVL.")
	return b.String()
}

// RenderPrompt resolves a registered prompt by name.
func RenderPrompt(name string, args map[string]string) (string, error) {
	switch name {
	case PromptAnalyzeYields:
		return RenderAnalyzeYields(args["chain"], args["project"]), nil
	default:
		return "", fmt.Errorf("unknown prompt: %s", name)
	}
}
