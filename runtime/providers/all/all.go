// Package all registers every built-in provider type with the providers
// factory registry.
package all

import (
	_ "github.com/danield137/lev/runtime/providers/claude" // register claude
	_ "github.com/danield137/lev/runtime/providers/mock"   // register mock
	_ "github.com/danield137/lev/runtime/providers/openai" // register openai
)
