// ABOUTME: Collection driver running CollectPurple, MarkRoots, ScanRoots and CollectWhite
// ABOUTME: Handles pass aborts, invariant faults and candidate resolution

package collector

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/prateek/cyclecollector/graph"
	"github.com/prateek/cyclecollector/participant"
)

type passResult struct {
	roots     int
	visited   int
	collected int
}

// root pairs a candidate as it was buffered with its canonical node
type root struct {
	ref  graph.ObjRef
	node *graph.Node
}

// runPass runs one full collection pass
func (c *Collector) runPass() (passResult, error) {
	c.pass++
	log := c.log.WithField("pass", c.pass)
	start := c.clock.Now()
	var pr passResult

	if c.listener != nil {
		c.listener.BeginPass(c.pass)
	}

	c.phase = CollectingPurple
	candidates, current := c.collectPurple()
	pr.roots = len(candidates)
	if len(candidates) == 0 {
		c.stats.Passes++
		c.metrics.passes.Inc(1)
		c.finishPass(nil)
		c.buffer.BumpGeneration()
		return pr, nil
	}

	c.scanning = true
	c.phase = Marking
	roots, dropped, visited, err := c.markRoots(candidates)
	pr.visited = visited
	if err == nil {
		c.phase = Scanning
		err = c.scanRoots(roots)
	}
	c.scanning = false

	if err != nil {
		c.abortPass(log, err, current)
		return pr, err
	}

	c.phase = CollectingWhite
	pr.collected = c.collectWhite(log, roots, dropped)

	c.stats.Passes++
	c.stats.Collected += uint64(pr.collected)
	c.metrics.passes.Inc(1)
	c.metrics.visited.Inc(int64(pr.visited))
	c.metrics.collected.Inc(int64(pr.collected))
	c.metrics.passTime.Update(c.clock.Since(start))

	c.finishPass(nil)
	c.buffer.BumpGeneration()
	c.metrics.candidates.Update(int64(c.buffer.Len()))

	log.WithFields(logrus.Fields{
		"roots":     pr.roots,
		"visited":   pr.visited,
		"collected": pr.collected,
	}).Debug("pass complete")
	return pr, nil
}

// collectPurple selects the aged candidates and the current-pass roots
func (c *Collector) collectPurple() ([]graph.ObjRef, []graph.ObjRef) {
	aged := c.buffer.SelectAged(c.cfg.ScanDelay)
	current := c.current
	c.current = nil

	if len(current) == 0 {
		return aged, nil
	}

	seen := make(map[graph.ObjRef]bool, len(aged)+len(current))
	out := make([]graph.ObjRef, 0, len(aged)+len(current))
	for _, ref := range aged {
		seen[ref] = true
		out = append(out, ref)
	}
	for _, ref := range current {
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out, current
}

// markRoots canonicalises every candidate, adds it to the graph and greys
// everything it reaches. Candidates owned by unregistered runtimes are
// returned as dropped.
func (c *Collector) markRoots(candidates []graph.ObjRef) ([]root, []graph.ObjRef, int, error) {
	roots := make([]root, 0, len(candidates))
	var dropped []graph.ObjRef
	visited := 0

	for _, ref := range candidates {
		canon, ok := c.canonical(ref)
		if !ok {
			dropped = append(dropped, ref)
			continue
		}
		n, _, err := c.table.Add(canon)
		if err != nil {
			return roots, dropped, visited, err
		}
		roots = append(roots, root{ref: ref, node: n})

		v, err := c.marker.Walk(n, markGreyVisitor{})
		visited += v
		if err != nil {
			return roots, dropped, visited, err
		}
	}
	return roots, dropped, visited, nil
}

// scanRoots resolves every grey node to white or black
func (c *Collector) scanRoots(roots []root) error {
	// A scan-black walk can reach a node before the scan visitor does, so
	// the refcount bound is checked on the whole graph up front.
	var over *graph.Node
	c.table.ForEachNode(func(n *graph.Node) {
		if over == nil && n.Traversed && n.InternalRefs > n.RefCount {
			over = n
		}
	})
	if over != nil {
		return newFault(FaultInternalExceedsRefCount, over,
			"internal refs %d exceed refcount %d", over.InternalRefs, over.RefCount)
	}

	scan := &scanVisitor{black: c.scanner}
	for _, r := range roots {
		if _, err := c.scanner.Walk(r.node, scan); err != nil {
			return err
		}
	}

	if c.cfg.Debug {
		var grey *graph.Node
		c.table.ForEachNode(func(n *graph.Node) {
			if grey == nil && n.Color == graph.Grey {
				grey = n
			}
		})
		if grey != nil {
			return newFault(FaultGreyAfterScan, grey, "%d nodes still grey", c.table.CountColor(graph.Grey))
		}
	}
	return nil
}

// collectWhite resolves the candidates and unlinks the white nodes.
// It returns the number of objects unlinked.
func (c *Collector) collectWhite(log logrus.FieldLogger, roots []root, dropped []graph.ObjRef) int {
	for _, ref := range dropped {
		log.WithField("object", ref).Debug("dropping candidate owned by an unregistered runtime")
		c.buffer.Remove(ref)
	}
	for _, r := range roots {
		c.buffer.Remove(r.ref)
	}

	batches := make(map[graph.RuntimeTag][]graph.ObjID)
	var tags []graph.RuntimeTag
	c.table.ForEachNode(func(n *graph.Node) {
		c.buffer.Remove(n.Ref)
		if n.Color != graph.White {
			return
		}
		if _, ok := batches[n.Ref.Tag]; !ok {
			tags = append(tags, n.Ref.Tag)
		}
		batches[n.Ref.Tag] = append(batches[n.Ref.Tag], n.Ref.ID)
	})
	if len(tags) == 0 {
		return 0
	}

	// Pin everything first so nothing is destroyed while links are cut.
	for _, tag := range tags {
		ids := batches[tag]
		failed := c.batchFailures(participant.OpRoot, tag, ids, c.active[tag].Root(ids))
		if len(failed) > 0 {
			batches[tag] = without(ids, failed)
		}
	}

	collected := 0
	for _, tag := range tags {
		ids := batches[tag]
		if len(ids) == 0 {
			continue
		}
		failed := c.batchFailures(participant.OpUnlink, tag, ids, c.active[tag].Unlink(ids))
		collected += len(ids) - len(failed)
	}

	for _, tag := range tags {
		ids := batches[tag]
		if len(ids) == 0 {
			continue
		}
		c.batchFailures(participant.OpUnroot, tag, ids, c.active[tag].Unroot(ids))
	}
	return collected
}

// abortPass discards the graph after a fault or resource exhaustion.
// Invariant faults disable the collector. Other errors leave the candidate
// buffer as it was so the next Collect can retry.
func (c *Collector) abortPass(log logrus.FieldLogger, err error, current []graph.ObjRef) {
	c.stats.AbortedPasses++
	c.metrics.aborted.Inc(1)

	var f *Fault
	if errors.As(err, &f) {
		c.fault = f
		c.disabled = true
		c.stats.Faults++
		c.metrics.faults.Inc(1)
		log.WithError(err).WithFields(logrus.Fields{
			"fault":  f.Kind.String(),
			"object": f.Ref,
		}).Error("cycle collector disabled after invariant fault")
	} else {
		c.current = append(current, c.current...)
		log.WithError(err).Warn("collection pass aborted")
	}
	c.finishPass(err)
}

// finishPass hands the graph to the listener and clears it
func (c *Collector) finishPass(err error) {
	if c.listener != nil {
		c.listener.EndPass(c.pass, c.table, err)
	}
	c.table.Clear()
	c.phase = Idle
}

func without(ids []graph.ObjID, drop map[graph.ObjID]bool) []graph.ObjID {
	kept := ids[:0]
	for _, id := range ids {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	return kept
}
