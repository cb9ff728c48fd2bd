package pdata

import _ "embed"

//go:embed player_data.pdef
var schemaPdefSource []byte
