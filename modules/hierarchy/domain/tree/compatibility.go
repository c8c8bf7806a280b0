package tree

import "sort"

type nodeTypePair struct {
	parent NodeType
	child  NodeType
}

// compatibility lists the edge types allowed from a parent node type to a child node type.
var compatibility = map[nodeTypePair][]RelationshipType{
	{NodeDepartment, NodeDepartment}: {RelationshipHierarchical, RelationshipMatrix, RelationshipFunctional},
	{NodeDepartment, NodeTeam}:       {RelationshipHierarchical, RelationshipFunctional},
	{NodeDepartment, NodePosition}:   {RelationshipHierarchical},
	{NodeDepartment, NodeLocation}:   {RelationshipGeographical},
	{NodeTeam, NodeTeam}:             {RelationshipHierarchical, RelationshipMatrix, RelationshipFunctional},
	{NodeTeam, NodePosition}:         {RelationshipHierarchical, RelationshipFunctional},
	{NodePosition, NodePosition}:     {RelationshipHierarchical, RelationshipMatrix, RelationshipFunctional},
	{NodePosition, NodeRole}:         {RelationshipFunctional},
	{NodeRole, NodeRole}:             {RelationshipHierarchical},
	{NodeLocation, NodeLocation}:     {RelationshipHierarchical, RelationshipGeographical},
	{NodeLocation, NodeDepartment}:   {RelationshipGeographical},
	{NodeLocation, NodeTeam}:         {RelationshipGeographical},
}

var defaultCompatibility = []RelationshipType{RelationshipCustom}

// AllowedRelationshipTypes returns the edge types permitted for the ordered
// pair. Unlisted pairs only admit custom edges.
func AllowedRelationshipTypes(parent, child NodeType) []RelationshipType {
	allowed, ok := compatibility[nodeTypePair{parent: parent, child: child}]
	if !ok {
		allowed = defaultCompatibility
	}
	out := make([]RelationshipType, len(allowed))
	copy(out, allowed)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func IsRelationshipAllowed(parent, child NodeType, t RelationshipType) bool {
	allowed, ok := compatibility[nodeTypePair{parent: parent, child: child}]
	if !ok {
		allowed = defaultCompatibility
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
