// Package inbound authenticates and parses provider push notifications
// before they reach the dispatcher.
package inbound
