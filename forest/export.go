package forest

import (
	"bufio"
	"fmt"
	"io"
)

// Tree dumps for the external raster rule engine.
//
// The inference side consumes one line per decision node:
//
//	node_id feature op threshold n_samples impurity value
//
// Internal nodes carry op "<=" and route left when the named feature is at
// or below the threshold; leaves carry feature "leaf", op "=" and a zero
// threshold. Node ids are depth-first preorder within each tree, and trees
// are separated by a "tree <index>" header so the consumer can rebuild the
// ensemble.

// ExportText writes every tree of the classifier in the rule-engine format.
func (c *Classifier) ExportText(w io.Writer, featureNames []string) error {
	if len(c.Trees) == 0 {
		return fmt.Errorf("classifier is not fitted")
	}
	return exportTrees(w, c.Trees, featureNames, c.NumFeatures)
}

// ExportText writes the base value followed by every stage tree of the
// regressor in the rule-engine format. Stage predictions are shrunk by the
// learning rate on the consumer side using the header value.
func (r *Regressor) ExportText(w io.Writer, featureNames []string) error {
	if len(r.Trees) == 0 {
		return fmt.Errorf("regressor is not fitted")
	}
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "base %.6f lr %.6f\n", r.Base, r.Config.LearningRate); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return exportTrees(w, r.Trees, featureNames, r.NumFeatures)
}

func exportTrees(w io.Writer, trees []*Tree, featureNames []string, numFeatures int) error {
	if len(featureNames) != numFeatures {
		return fmt.Errorf("feature names length %d does not match model features %d", len(featureNames), numFeatures)
	}
	bw := bufio.NewWriter(w)
	for ti, tree := range trees {
		if _, err := fmt.Fprintf(bw, "tree %d\n", ti); err != nil {
			return err
		}
		nextID := 0
		if err := writeNode(bw, tree.Root, featureNames, &nextID); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeNode(w io.Writer, n *Node, names []string, nextID *int) error {
	id := *nextID
	*nextID++
	if n.Leaf {
		_, err := fmt.Fprintf(w, "%d leaf = 0 %d %.6f %.6f\n", id, n.N, n.Impurity, n.Value)
		return err
	}
	if _, err := fmt.Fprintf(w, "%d %s <= %.6f %d %.6f %.6f\n",
		id, names[n.Feature], n.Threshold, n.N, n.Impurity, n.Value); err != nil {
		return err
	}
	if err := writeNode(w, n.Left, names, nextID); err != nil {
		return err
	}
	return writeNode(w, n.Right, names, nextID)
}
