package tracerec

// Event row shapes published by the GIC core. Table names match the
// struct names in snake case.

// RegAccess is one config-frame register access.
type RegAccess struct {
	Domain string
	Offset uint64
	Value  uint64
	Size   int
	Write  bool
	Bad    bool
}

// SPIEdge is one SPI input wire level change.
type SPIEdge struct {
	ID    uint32
	Level bool
}

// StreamCommand is one stream protocol command from a CPU interface.
type StreamCommand struct {
	Op     string
	Domain string
	Type   string
	ID     uint32
	Arg    uint64
}

// Ack is one interrupt acknowledge.
type Ack struct {
	IAFFID uint16
	INTID  uint32
	Prio   uint8
	NMI    bool
}

// Wake is one wake-line update.
type Wake struct {
	IAFFID uint16
	IRQ    bool
	NMI    bool
}

// Tables registers all event tables with a recorder.
func Tables(r Recorder) {
	r.CreateTable("reg_access", RegAccess{})
	r.CreateTable("spi_edge", SPIEdge{})
	r.CreateTable("stream_command", StreamCommand{})
	r.CreateTable("ack", Ack{})
	r.CreateTable("wake", Wake{})
}
