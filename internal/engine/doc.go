// Package engine hosts the netpulse throughput-measurement core: an
// instance registry, timer-driven traffic and report loops, the
// {TCP,UDP}x{client,server}x{v4,v6} socket matrix, and the forced-stop /
// deletion lifecycle protocol.
//
// Everything here runs inside one *Engine value. Embedders construct an
// Engine, start instances against it, and observe each instance's lifecycle
// through a state callback. The one piece of process-wide state is the
// shared stdout report sink used when no sink is configured.
package engine
