// Package taxonomy holds the parent→child placement rules of the content
// tree and validates structural operations against them.
//
// The rules are a single table; nothing here touches the filesystem.
package taxonomy

import (
	"fmt"
	"strings"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
)

// Root is the pseudo type of the content root.
const Root models.NodeType = "root"

var contentChildren = []models.NodeType{
	models.TypeSection, models.TypeDocument, models.TypeService,
	models.TypeServer, models.TypeNetwork,
}

// allowedChildren is the complete rule set. Types missing from the table
// (the leaf types) accept no children.
var allowedChildren = map[models.NodeType][]models.NodeType{
	Root:                  {models.TypeCompany},
	models.TypeCompany:    {models.TypeDataCenter},
	models.TypeDataCenter: contentChildren,
	models.TypeSection:    contentChildren,
}

// Reason identifies why a structural operation was rejected.
type Reason string

const (
	ReasonWrongTypeAtRoot Reason = "wrong_type_at_root"
	ReasonDisallowedChild Reason = "disallowed_child"
	ReasonLeafParent      Reason = "leaf_parent"
	ReasonCyclicMove      Reason = "cyclic_move"
	ReasonNameCollision   Reason = "name_collision"
)

// Violation is a rejected placement or move.
type Violation struct {
	Reason Reason
	Path   string
	Msg    string
}

func (v *Violation) Error() string { return v.Msg }

// Unwrap exposes the matching apperr kind so callers can use errors.Is with
// the apperr sentinels.
func (v *Violation) Unwrap() error {
	kind := apperr.KindDisallowedPlacement
	switch v.Reason {
	case ReasonCyclicMove:
		kind = apperr.KindCyclicMove
	case ReasonNameCollision:
		kind = apperr.KindNameCollision
	}
	return &apperr.Error{Kind: kind, Path: v.Path, Msg: v.Msg}
}

// AllowedChildren returns the child types parent accepts.
func AllowedChildren(parent models.NodeType) []models.NodeType {
	return append([]models.NodeType(nil), allowedChildren[parent]...)
}

// ValidatePlacement reports whether child may be placed under parent.
func ValidatePlacement(parent, child models.NodeType) bool {
	for _, t := range allowedChildren[parent] {
		if t == child {
			return true
		}
	}
	return false
}

// CheckPlacement is ValidatePlacement with a specific violation reason.
func CheckPlacement(parentPath string, parent, child models.NodeType) error {
	if ValidatePlacement(parent, child) {
		return nil
	}
	v := &Violation{Path: parentPath}
	switch {
	case parent == Root:
		v.Reason = ReasonWrongTypeAtRoot
		v.Msg = fmt.Sprintf("only %s nodes may be created at the root, not %s", models.TypeCompany, child)
	case len(allowedChildren[parent]) == 0:
		v.Reason = ReasonLeafParent
		v.Msg = fmt.Sprintf("%s nodes cannot have children", parent)
	default:
		v.Reason = ReasonDisallowedChild
		v.Msg = fmt.Sprintf("%s nodes accept only %s, not %s", parent, typeList(allowedChildren[parent]), child)
	}
	return v
}

func typeList(types []models.NodeType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}

// MoveCheck carries everything ValidateMove needs to know about a move.
type MoveCheck struct {
	NodePath      string
	NodeType      models.NodeType
	NewParentPath string
	NewParentType models.NodeType // Root for the content root
	// NewName is the segment the node will have under the new parent.
	NewName string
	// SiblingNames are the child segment names already under the new parent.
	SiblingNames []string
}

// ValidateMove rejects moves into the node's own subtree, disallowed
// placements and name collisions under the destination.
func ValidateMove(m MoveCheck) error {
	if pathres.IsWithin(m.NewParentPath, m.NodePath) {
		return &Violation{
			Reason: ReasonCyclicMove,
			Path:   m.NodePath,
			Msg:    fmt.Sprintf("cannot move %q into its own subtree %q", m.NodePath, m.NewParentPath),
		}
	}
	if err := CheckPlacement(m.NewParentPath, m.NewParentType, m.NodeType); err != nil {
		return err
	}
	target := pathres.Join(m.NewParentPath, m.NewName)
	for _, s := range m.SiblingNames {
		if pathres.Join(m.NewParentPath, s) == m.NodePath {
			continue // the node itself, when renaming in place
		}
		if strings.EqualFold(s, m.NewName) {
			return &Violation{
				Reason: ReasonNameCollision,
				Path:   target,
				Msg:    fmt.Sprintf("%q already exists", target),
			}
		}
	}
	return nil
}
