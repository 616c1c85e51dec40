// Package hislipclient implements a HiSLIP (IVI-6.1) client session.
//
// A session opens two TCP connections to the instrument: the synchronous channel carries commands and
// their responses, the asynchronous channel carries out-of-band traffic such as service requests, status
// queries, locking and device clear. Open negotiates both channels and returns a ready Session:
//
//	cfg, err := hislipclient.NewConnectionConfig("192.168.1.10", 0,
//		hislipclient.WithSubAddress("hislip0"),
//		hislipclient.WithLogger(logger.NewSlog(logger.InfoLevel, false)),
//	)
//	if err != nil {
//		return err
//	}
//
//	session, err := hislipclient.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer session.Close()
//
//	idn, err := session.Query("*IDN?\n", 2*time.Second)
//
// The session never reconnects. Transport failures, protocol violations and FatalError messages move it
// to the fatal state; the caller closes it and opens a new one.
package hislipclient
