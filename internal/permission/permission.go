// Package permission decides whether a principal kind may perform an action on a resource kind.
package permission

import (
	_ "embed"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"

	"github.com/mzrzvi/authcore/internal/model"
)

//go:embed model.conf
var modelConf string

// Action names.
const (
	View        = "view"
	ViewAll     = "view_all"
	Update      = "update"
	Delete      = "delete"
	Create      = "create"
	CreateAdmin = "create_admin"
	Assign      = "assign"
)

// Resource kinds.
const (
	ResourcePrincipal = "principal"
	ResourceGrant     = "grant"
)

// Table maps resource kind -> action -> allowed kinds.
type Table map[string]map[string][]model.Kind

// DefaultTable is the process-wide capability table.
func DefaultTable() Table {
	return Table{
		ResourcePrincipal: {
			View:        {model.KindAdmin, model.KindStandard},
			Update:      {model.KindAdmin, model.KindStandard},
			Delete:      {model.KindAdmin, model.KindStandard},
			ViewAll:     {model.KindAdmin},
			Create:      {model.KindAdmin},
			CreateAdmin: {model.KindAdmin},
		},
		ResourceGrant: {
			Assign: {model.KindAdmin},
		},
	}
}

// Engine answers permission checks against a casbin enforcer loaded from a
// Table. Policies are fixed at New; the enforcer is safe for concurrent use.
type Engine struct {
	enforcer *casbin.SyncedEnforcer
}

// New loads t into an Engine. Later changes to t are not seen. New panics if
// the embedded model does not parse.
func New(t Table) *Engine {
	m, err := casbinmodel.NewModelFromString(modelConf)
	if err != nil {
		panic("permission: parse model: " + err.Error())
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		panic("permission: create enforcer: " + err.Error())
	}
	if rules := policies(t); len(rules) > 0 {
		if _, err := enforcer.AddPolicies(rules); err != nil {
			panic("permission: load policies: " + err.Error())
		}
	}
	return &Engine{enforcer: enforcer}
}

// policies flattens t into deduplicated (kind, resource, action) rules.
func policies(t Table) [][]string {
	seen := map[[3]string]struct{}{}
	var out [][]string
	for res, actions := range t {
		for act, kinds := range actions {
			for _, k := range kinds {
				key := [3]string{string(k), res, act}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, key[:])
			}
		}
	}
	return out
}

// Default returns an Engine over DefaultTable.
func Default() *Engine { return New(DefaultTable()) }

// Check reports whether kind may perform action on resource. Unknown resources
// and actions deny, as does an enforcer error.
func (e *Engine) Check(kind model.Kind, action, resource string) bool {
	ok, err := e.enforcer.Enforce(string(kind), resource, action)
	return err == nil && ok
}
