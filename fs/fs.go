package appfs

import "embed"

// FS holds the SQL migrations and the static assets (email templates, password lists).
//
//go:embed migrations assets
var FS embed.FS
