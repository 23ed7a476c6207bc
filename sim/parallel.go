package sim

import (
	"fmt"
	"sync"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/morphogen/components"
	"github.com/pthm-cable/morphogen/systems"
)

// agentSnapshot captures one agent for the behavior pass. Rules aliases the
// component's slice, which is never modified after creation.
type agentSnapshot struct {
	Entity ecs.Entity
	Rules  []components.RuleRef
	State  systems.AgentState
}

// chunkScratch holds the per-chunk output of a parallel pass. Chunks are
// numbered by agent range, so merging in chunk order is deterministic no
// matter which goroutine ran the chunk.
type chunkScratch struct {
	Pending  systems.PendingDeltas
	Err      error
	ErrIndex int
}

// workChunk represents a range of agents for a worker to process.
type workChunk struct {
	index      int
	start, end int
}

// parallelState holds resources for parallel behavior computation.
type parallelState struct {
	snapshots  []agentSnapshot
	scratches  []chunkScratch
	numWorkers int

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

func newParallelState(numWorkers int) *parallelState {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &parallelState{
		numWorkers: numWorkers,
		scratches:  make([]chunkScratch, numWorkers),
		snapshots:  make([]agentSnapshot, 0, 512),
	}
}

// startWorkers launches persistent worker goroutines.
func (p *parallelState) startWorkers(rules *systems.RuleBook) {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(rules)
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *parallelState) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *parallelState) worker(rules *systems.RuleBook) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			scratch := &p.scratches[chunk.index]
			p.computeChunk(rules, chunk.start, chunk.end, &scratch.Pending, scratch)
			p.doneChan <- struct{}{}
		}
	}
}

// computeChunk runs the rules of agents [i0, i1). The first failing agent
// stops the chunk.
func (p *parallelState) computeChunk(rules *systems.RuleBook, i0, i1 int, sink systems.ConcentrationSink, scratch *chunkScratch) {
	for i := i0; i < i1; i++ {
		snap := &p.snapshots[i]
		if err := rules.Run(snap.Rules, &snap.State, sink); err != nil {
			scratch.Err = err
			scratch.ErrIndex = i
			return
		}
	}
}

// computeSequential runs every agent in order on the calling goroutine.
// Secretions go straight into the grids.
func (p *parallelState) computeSequential(rules *systems.RuleBook) error {
	scratch := &p.scratches[0]
	scratch.Err = nil
	p.computeChunk(rules, 0, len(p.snapshots), systems.DirectSink{}, scratch)
	if scratch.Err != nil {
		return fmt.Errorf("agent %d: %w", scratch.ErrIndex, scratch.Err)
	}
	return nil
}

// computeParallel dispatches contiguous chunks to the worker pool, then
// applies the buffered secretions in chunk order.
func (p *parallelState) computeParallel(rules *systems.RuleBook) error {
	// Ensure workers are running
	if !p.running {
		p.startWorkers(rules)
	}

	n := len(p.snapshots)
	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	// Dispatch chunks to workers
	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			break
		}
		p.scratches[w].Err = nil
		p.scratches[w].Pending.Reset()
		p.workChan <- workChunk{index: w, start: start, end: end}
		chunksDispatched++
	}

	// Wait for all chunks to complete
	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}

	// Chunks cover increasing agent ranges, so the first error found is
	// the one from the lowest agent index.
	for w := 0; w < chunksDispatched; w++ {
		if err := p.scratches[w].Err; err != nil {
			for j := 0; j < chunksDispatched; j++ {
				p.scratches[j].Pending.Reset()
			}
			return fmt.Errorf("agent %d: %w", p.scratches[w].ErrIndex, err)
		}
	}
	for w := 0; w < chunksDispatched; w++ {
		p.scratches[w].Pending.Flush()
	}
	return nil
}
