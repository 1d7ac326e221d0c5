package render

var DecodeWheel = decodeWheel
