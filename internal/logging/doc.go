// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON, development mode writes colored console
// output. Both write to stderr by default because stdout belongs to the
// guest.
//
// Every guest process gets a child logger carrying its ID:
//
//	log := logging.NewDefault().ForProcess(pid)
//	log.Debug("syscall", logging.Op(op), logging.Result(ret))
package logging
