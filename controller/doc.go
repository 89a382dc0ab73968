// Package controller implements the per-port device protocol engine.
//
// An Engine owns one serial transport and a FIFO of directives addressed to
// the devices on that port. At most one directive is on the wire at a time:
// the head of the queue is transmitted, and only after its response has been
// parsed (or it timed out) is the next one sent. When the queue drains the
// collected telemetry is flushed to the log, the database and the network
// session, in that order.
//
// Three goroutines drive an engine:
//
//   - poll: after a short start delay and then every poll interval, fills an
//     empty queue with the family's poll directives for every device.
//   - respond: waits for parsed frames, lets the line settle, advances the queue.
//   - heartbeat: raises ResultHeartbeatTimeout once when no frame has been
//     parsed successfully for a full heartbeat interval.
//
// The device specific parts live behind the Family interface; see the cooler
// and vacuum packages.
package controller
