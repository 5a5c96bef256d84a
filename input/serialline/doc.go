// Package serialline reads sensor CSV lines from a node's USB serial link
// and publishes normalized samples onto the bus. The nodes emit one line
// per sample at 115200 baud; status chatter is prefixed with '#'. The
// adapter also relays operator commands back over the same link.
package serialline
