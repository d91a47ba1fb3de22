package store

import "github.com/locomotive-agency/mcp-router-sub000/pkg/gateway"

var _ gateway.ConfigStore = (*Store)(nil)
