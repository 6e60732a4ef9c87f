/*
Package ssh2 implements the SSH2 transport, user authentication and
connection protocols: a layered engine that frames, encrypts,
authenticates and multiplexes byte streams between two peers over an
unreliable bidirectional stream.

The transport layer provides an ordered, authenticated packet stream
with algorithm negotiation, key exchange and transparent rekeying; the
first exchange hash becomes the immutable session id. On top of it,
user authentication negotiates the publickey or password method, and
the connection layer multiplexes flow-controlled channels: sessions,
TCP forwards in both directions, X11 and forwarded agent connections.

Clients are built with Dial or NewClientConn and a ClientConfig;
servers with NewServerConn and a ServerConfig carrying host keys and
authorization callbacks. The sibling package agent implements the
authentication agent the publickey method can delegate signing to.

References: RFC 4251 through RFC 4254.
*/
package ssh2
