package segmentation

import "github.com/wyfcoding/mortgage-kernel/internal/registry"

// splitNode walks the decision tree's split nodes, comparing the feature
// vector against each node's threshold, the same <=-left / >-right
// convention as a classic CART predict walk.
func splitNode(node *registry.TreeNode, features map[string]float64) *registry.TreeNode {
	for node != nil && !node.IsLeaf {
		value := features[node.Feature]
		if value <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node
}
