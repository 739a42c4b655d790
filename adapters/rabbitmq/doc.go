/*
Package rabbitmq provides a RabbitMQ transport for the channel bus.
Channels are routing keys on a direct exchange. Publishing goes through an auto-reconnect
publisher; every subscription consumes from its own exclusive, auto-deleted queue on a dedicated
connection, so each process receives its own copy of every message.
*/
package rabbitmq
