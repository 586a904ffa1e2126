//go:build !bedrock

package main

import "chorus/internal/adapter/llm"

// providerOptions is empty without the bedrock tag; bedrock agents then fail
// registration with a configuration error.
func providerOptions() []llm.FactoryOption { return nil }
