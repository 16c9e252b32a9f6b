package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-cms/internal/health"
	"github.com/keithlinneman/linnemanlabs-cms/internal/version"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Version is served as JSON on /-/version when set
	Version *version.Info

	// AllowPublic disables the private network check, for tests and local runs
	AllowPublic  bool
	UseRecoverMW bool
	OnPanic      func()
}
