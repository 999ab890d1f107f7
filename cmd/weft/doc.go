// Package main hosts the weft CLI entrypoint and command graph.
//
// The Cobra-based command tree covers single-chapter translation, queue
// drains, queue maintenance, book and glossary management, and configuration
// scaffolding. It centralizes configuration resolution, store lifecycles, and
// the single-instance lock so subcommands can focus on user experience
// instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
