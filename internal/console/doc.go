// Package console implements the interactive line console of the gateway.
//
// The console reads one command per line and answers on the same stream
// pair, so it works on a terminal and over pipes alike:
//
//	temp <room> <celsius>    request a new set temperature
//	mode <room> <mode>       auto, manual, boost or vacation
//	status                   table of every known room
//	help                     list commands
//	quit                     stop the gateway
//
// Room names may contain spaces: the last word of a temp or mode command is
// the value and everything between the command and the value is the room.
package console
