// Package config loads lev suite manifests.
//
// A suite is a YAML document naming the model to evaluate, the tool servers
// available to it, shared defaults and the eval cases:
//
//	version: "1.0"
//	name: weather
//	llm:
//	  profile: openai
//	servers:
//	  forecast:
//	    command: ./forecast-mcp
//	    env: {API_KEY: ${FORECAST_KEY}}
//	defaults:
//	  servers: [forecast]
//	  execution: {max_depth: 4, timeout: 2m}
//	cases:
//	  - id: paris
//	    prompt: What is the weather in Paris?
//	    scorers:
//	      - type: tool_call_count
//	        parameters: {calls: [{tool: forecast, min: 1}]}
//
// The package is organized into:
//   - types.go: suite types
//   - loader.go: reading, schema validation, env expansion
//   - profile.go: provider profiles from ~/.lev/profile.yaml
//   - validator.go: semantic validation
//   - convert.go: conversion to evaluator cases
package config
