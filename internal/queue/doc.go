// Package queue provides an unbounded multi-producer, single-consumer FIFO.
//
// Push never blocks, so a slow consumer can never stall a mail or serial
// loop; the price is unbounded memory growth while the consumer is stuck.
package queue
