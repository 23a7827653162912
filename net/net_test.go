package net

import (
	"testing"
)

func TestAllocPacketRecyclesPooledBuffers(t *testing.T) {
	d := NewDevice("net0", MAC{0, 1, 2, 3, 4, 5}, Ops{})

	p := d.AllocPacket()
	if !p.pooled {
		t.Fatal("expected a pooled packet while the pool has free slots")
	}

	before := len(d.freeList)
	p.Release()
	if len(d.freeList) != before+1 {
		t.Fatalf("freeList len = %d after Release, want %d", len(d.freeList), before+1)
	}
}

func TestAllocPacketBoxesWhenPoolExhausted(t *testing.T) {
	d := NewDevice("net0", MAC{0, 1, 2, 3, 4, 5}, Ops{})

	for i := 0; i < PacketsPerStream; i++ {
		d.AllocPacket()
	}

	p := d.AllocPacket()
	if p.pooled {
		t.Fatal("expected a boxed packet once the pool is exhausted")
	}
	p.Release() // no-op, must not panic
}

func TestARPCacheMRUOrderingAndBound(t *testing.T) {
	c := newARPCache()

	for i := 0; i < MRUCacheSize+10; i++ {
		ip := [4]byte{192, 168, 1, byte(i)}
		c.Insert(ip, MAC{byte(i), 0, 0, 0, 0, 0})
	}

	if len(c.entries) != MRUCacheSize {
		t.Fatalf("len(entries) = %d, want %d", len(c.entries), MRUCacheSize)
	}

	last := [4]byte{192, 168, 1, byte(MRUCacheSize + 9)}
	if _, ok := c.Lookup(last); !ok {
		t.Fatal("most recently inserted entry evicted")
	}

	oldest := [4]byte{192, 168, 1, 0}
	if _, ok := c.Lookup(oldest); ok {
		t.Fatal("oldest entry should have been evicted")
	}
}

func TestARPCacheReinsertMovesToFrontWithoutDuplicating(t *testing.T) {
	c := newARPCache()

	ipA := [4]byte{10, 0, 0, 1}
	ipB := [4]byte{10, 0, 0, 2}

	c.Insert(ipA, MAC{1})
	c.Insert(ipB, MAC{2})
	c.Insert(ipA, MAC{1, 1}) // re-seen, should move to front

	if len(c.entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2 (no duplicate)", len(c.entries))
	}
	if c.entries[0].ip != ipA {
		t.Fatalf("entries[0].ip = %v, want %v (most-recent-first)", c.entries[0].ip, ipA)
	}
}

func TestFilterMatch(t *testing.T) {
	p := &Packet{
		LinkProto: LinkEthernet, NetProto: NetIPv4, TransProto: TransUDP,
		DstPort: 68, SrcPort: 67,
		SrcIP: [4]byte{192, 168, 1, 1},
	}

	f := Filter{
		HasNet: true, NetProto: NetIPv4,
		HasTrans: true, TransProto: TransUDP,
		HasLocalPort: true, LocalPort: 68,
	}
	if !f.Match(p) {
		t.Fatal("expected filter to match packet")
	}

	wrongPort := f
	wrongPort.LocalPort = 69
	if wrongPort.Match(p) {
		t.Fatal("expected filter with mismatched local port to reject")
	}

	wrongSrc := f
	wrongSrc.HasSrcIP = true
	wrongSrc.SrcIP = [4]byte{10, 0, 0, 1}
	if wrongSrc.Match(p) {
		t.Fatal("expected filter with mismatched source IP to reject")
	}
}

func TestRegistryRegisterAssignsSequentialNames(t *testing.T) {
	r := NewRegistry()

	d0 := r.Register(MAC{0}, Ops{})
	d1 := r.Register(MAC{1}, Ops{})

	if d0.Name != "net0" || d1.Name != "net1" {
		t.Fatalf("names = %q, %q, want net0, net1", d0.Name, d1.Name)
	}
}

func TestOpenAllocatesNonCollidingPortAboveReserved(t *testing.T) {
	r := NewRegistry()
	d := r.Register(MAC{0}, Ops{})
	d.HostIP = [4]byte{192, 168, 1, 10}
	d.NetMask = [4]byte{255, 255, 255, 0}

	next := uint16(2000)
	randPort := func() uint16 {
		p := next
		next++
		return p
	}

	c1, err := r.Open(1, [4]byte{192, 168, 1, 20}, Filter{}, HeaderData, randPort)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c1.LocalPort <= 1024 {
		t.Fatalf("LocalPort = %d, want > 1024", c1.LocalPort)
	}

	c2, err := r.Open(1, [4]byte{192, 168, 1, 21}, Filter{}, HeaderData, randPort)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c2.LocalPort == c1.LocalPort {
		t.Fatal("expected distinct local ports")
	}
}

func TestOpenRejectsTCPFilter(t *testing.T) {
	r := NewRegistry()
	d := r.Register(MAC{0}, Ops{})
	d.HostIP = [4]byte{192, 168, 1, 10}
	d.NetMask = [4]byte{255, 255, 255, 0}

	_, err := r.Open(1, [4]byte{192, 168, 1, 20}, Filter{HasTrans: true, TransProto: TransTCP}, HeaderData, func() uint16 { return 2000 })
	if err != ErrNotImplemented {
		t.Fatalf("err = %v, want ErrNotImplemented", err)
	}
}

func TestCloseAllRemovesOwnedConnectionsOnly(t *testing.T) {
	r := NewRegistry()
	d := r.Register(MAC{0}, Ops{})
	d.HostIP = [4]byte{192, 168, 1, 10}
	d.NetMask = [4]byte{255, 255, 255, 0}

	randPort := func() uint16 { return 2000 + uint16(len(d.connections)) }

	c1, _ := r.Open(1, [4]byte{192, 168, 1, 20}, Filter{}, HeaderData, randPort)
	_, _ = r.Open(2, [4]byte{192, 168, 1, 21}, Filter{}, HeaderData, randPort)

	r.CloseAll(1)

	conns := d.Connections()
	if len(conns) != 1 {
		t.Fatalf("len(Connections()) = %d, want 1", len(conns))
	}
	if conns[0] == c1 {
		t.Fatal("pid 1's connection should have been closed")
	}
}
