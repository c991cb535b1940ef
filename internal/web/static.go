package web

import (
	"embed"
)

// staticFiles holds the page served at "/" and its assets.
//
//go:embed static/*
var staticFiles embed.FS
