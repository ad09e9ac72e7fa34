// Package llm contains adapters for invoking hosted large language models.
// It hides provider-specific APIs behind Client so the chat responder can
// fall back to the local knowledge base when no model is configured.
package llm
