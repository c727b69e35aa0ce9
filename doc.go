/*
Clustermq is a small messaging library in the style of ZeroMQ. Applications create sockets with
a fixed pattern from a Context, bind or connect them to endpoints, and exchange messages made of
one or more frames. The library takes care of connection handling, queuing, load balancing and
routing; the payload has no defined format.

Patterns:

	PUB/SUB      one-to-many; subscribers filter by prefix of the first frame
	PUSH/PULL    pipeline; pushed messages are spread round-robin over the pullers
	REQ/REP      strict request/reply alternation
	ROUTER       addresses peers by identity (first frame)
	DEALER       asynchronous round-robin counterpart of ROUTER

A Poller waits on several sockets at once, and Proxy connects two sockets, e.g. a ROUTER facing
clients and a DEALER facing workers:

	ctx, _ := clustermq.NewContext()
	defer ctx.Term()

	front, _ := ctx.NewSocket(clustermq.ROUTER)
	front.Bind("tcp://*:5559")
	back, _ := ctx.NewSocket(clustermq.DEALER)
	back.Bind("tcp://*:5560")

	clustermq.Proxy(context.Background(), front, back)
*/
package clustermq
