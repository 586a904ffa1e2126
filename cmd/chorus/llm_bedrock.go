//go:build bedrock

package main

import (
	"chorus/internal/adapter/llm"
	"chorus/internal/domain"
)

func providerOptions() []llm.FactoryOption {
	return []llm.FactoryOption{llm.WithConstructor(domain.ProviderBedrock, llm.BedrockConstructor)}
}
