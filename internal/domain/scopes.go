package domain

import "charted-server/pkg/bitfield"

// レジストリトークンのスコープ名。
const (
	RegistryScopePull   = "pull"
	RegistryScopePush   = "push"
	RegistryScopeDelete = "delete"
)

// RegistryScopes はOCIレジストリトークンが持つスコープの対応表。
var RegistryScopes = bitfield.Table{
	RegistryScopePull:   1 << 0,
	RegistryScopePush:   1 << 1,
	RegistryScopeDelete: 1 << 2,
}

// APIKeyScopes はセッションおよびAPIキーが持つスコープの対応表。
var APIKeyScopes = bitfield.Table{
	"user:access":                 1 << 0,
	"user:update":                 1 << 1,
	"user:delete":                 1 << 2,
	"user:connections":            1 << 3,
	"user:avatar:update":          1 << 4,
	"user:sessions:list":          1 << 5,
	"repo:access":                 1 << 6,
	"repo:create":                 1 << 7,
	"repo:delete":                 1 << 8,
	"repo:update":                 1 << 9,
	"repo:icon:update":            1 << 10,
	"repo:releases:create":        1 << 11,
	"repo:releases:update":        1 << 12,
	"repo:releases:delete":        1 << 13,
	"repo:members:list":           1 << 14,
	"repo:members:update":         1 << 15,
	"repo:members:kick":           1 << 16,
	"repo:members:invites:access": 1 << 17,
	"repo:members:invites:delete": 1 << 18,
	"repo:webhooks:list":          1 << 19,
	"repo:webhooks:create":        1 << 20,
	"repo:webhooks:update":        1 << 21,
	"repo:webhooks:delete":        1 << 22,
	"repo:webhooks:events:access": 1 << 23,
	"repo:webhooks:events:delete": 1 << 24,
	"apikeys:view":                1 << 25,
	"apikeys:list":                1 << 26,
	"apikeys:create":              1 << 27,
	"apikeys:delete":              1 << 28,
	"apikeys:update":              1 << 29,
	"org:access":                  1 << 30,
	"org:create":                  1 << 31,
	"org:update":                  1 << 32,
	"org:delete":                  1 << 33,
	"org:members:invites":         1 << 34,
	"org:members:list":            1 << 35,
	"org:members:kick":            1 << 36,
	"org:members:update":          1 << 37,
	"org:webhooks:list":           1 << 38,
	"org:webhooks:create":         1 << 39,
	"org:webhooks:update":         1 << 40,
	"org:webhooks:delete":         1 << 41,
	"org:webhooks:events:list":    1 << 42,
	"org:webhooks:events:delete":  1 << 43,
	"admin:stats":                 1 << 44,
	"admin:users:create":          1 << 45,
	"admin:users:delete":          1 << 46,
	"admin:users:update":          1 << 47,
	"admin:orgs:delete":           1 << 48,
	"admin:orgs:update":           1 << 49,
}
