package internal

import "log/slog"

// LevelTrace sits below slog.LevelDebug for the noisiest per-packet logging
// (sequence-space transitions, retransmission bookkeeping), matching the
// convention cb.ControlBlock's embedded Logger uses for Trace.
const LevelTrace slog.Level = slog.LevelDebug - 2
