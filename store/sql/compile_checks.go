package sqlstore

import "github.com/Outbound-Project/outbound-bot/core"

var (
	_ core.StateStore   = (*StateStore)(nil)
	_ core.PrefixLister = (*StateStore)(nil)
)
