// Package rtntp holds the error and validation primitives shared by the
// NTP wire codec in package ntp and the non-blocking client in package sntp.
package rtntp
