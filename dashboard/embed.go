// Package dashboard provides the embedded live event page served by the
// development collector.
//
// The page subscribes to the collector's Server-Sent Events stream and
// renders each received event, flagging documents that failed schema
// validation. Embedding keeps "opix collect" a single binary.
package dashboard

import "embed"

// Assets contains the event page.
//
//	assets/
//	  index.html    - event table with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
