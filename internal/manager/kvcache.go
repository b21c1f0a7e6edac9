package manager

import (
	"errors"
	"sync"
)

// errKVExhausted is returned when the pool has no free block left.
var errKVExhausted = errors.New("kv cache exhausted")

// kvBlockPool hands out fixed-size cache blocks. Free blocks are kept on a
// LIFO free list so recently released blocks are reused first.
type kvBlockPool struct {
	mu        sync.Mutex
	blockSize int
	total     int
	free      []int
}

func newKVBlockPool(totalBlocks, blockSize int) *kvBlockPool {
	if blockSize <= 0 {
		blockSize = defaultKVBlockSize
	}
	p := &kvBlockPool{blockSize: blockSize, total: totalBlocks, free: make([]int, 0, totalBlocks)}
	for id := totalBlocks - 1; id >= 0; id-- {
		p.free = append(p.free, id)
	}
	return p
}

// blocksFor returns the number of blocks needed to hold n tokens.
func (p *kvBlockPool) blocksFor(n int) int {
	return (n + p.blockSize - 1) / p.blockSize
}

func (p *kvBlockPool) used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total - len(p.free)
}

func (p *kvBlockPool) available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// allocate takes n blocks, all or nothing.
func (p *kvBlockPool) allocate(n int) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.free) {
		return nil, errKVExhausted
	}
	cut := len(p.free) - n
	out := make([]int, n)
	copy(out, p.free[cut:])
	p.free = p.free[:cut]
	return out, nil
}

func (p *kvBlockPool) put(blocks []int) {
	p.mu.Lock()
	p.free = append(p.free, blocks...)
	p.mu.Unlock()
}

// kvLease is the resource handle of one request: the blocks backing its
// sequence. Release returns them to the pool exactly once.
type kvLease struct {
	pool   *kvBlockPool
	blocks []int
	once   sync.Once
}

func (p *kvBlockPool) lease(tokens int) (*kvLease, error) {
	blocks, err := p.allocate(p.blocksFor(tokens))
	if err != nil {
		return nil, err
	}
	return &kvLease{pool: p, blocks: blocks}, nil
}

// ensure grows the lease so it can hold tokens.
func (l *kvLease) ensure(tokens int) error {
	need := l.pool.blocksFor(tokens) - len(l.blocks)
	if need <= 0 {
		return nil
	}
	more, err := l.pool.allocate(need)
	if err != nil {
		return err
	}
	l.blocks = append(l.blocks, more...)
	return nil
}

func (l *kvLease) Release() {
	l.once.Do(func() {
		l.pool.put(l.blocks)
		l.blocks = nil
	})
}
