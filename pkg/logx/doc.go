// Package logx is tabsleep's structured logging: a thin Logger over zerolog,
// a Service whose sinks and level can be re-applied on config reload, and a
// rate-limited Sampler for noisy warning sites.
package logx
