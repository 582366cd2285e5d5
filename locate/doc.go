// Package locate maps textual symbol names to addresses inside a loaded module.
//
// Names are matched exactly, including decorated C++ forms such as
// "?DoInput@C4GameControl@@QEAAXW4C4PacketType@@PEAVC4ControlPacket@@W4C4ControlDeliveryType@@@Z".
// The DbgHelp backend covers every symbol present in the module's debug data;
// Exports reads a module's PE export directory and serves CRT and other
// exported functions when no debug data is loaded for that module.
package locate
