/*
Package servicebus turns a publish/subscribe transport into named channels with per-message
audience filtering, and layers a request/response protocol on top of the broadcast medium.

Every message travels as "<filterId>;<payload>". A process handles a message only when the filter
id is the broadcast sentinel "all" or its own filter id. Handlers see the payload without the
prefix.
*/
package servicebus
