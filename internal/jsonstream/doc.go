// Package jsonstream writes a JSON document incrementally to an output stream.
//
// A StreamWriter keeps a stack of open object and array contexts. Callers
// open nested contexts, append items into the innermost one and close
// contexts when they are done; nothing but the stack is held in memory.
// Every append returns the byte span of the item as written so that a later
// process can seek back into the document and patch it in place.
//
//	w, err := jsonstream.CreateFile("out.json")
//	if err != nil {
//	    return err
//	}
//	return w.Use(func(w *jsonstream.StreamWriter) error {
//	    if _, err := w.AppendObjectItem("a", 1); err != nil {
//	        return err
//	    }
//	    if _, err := w.OpenArrayContext(jsonstream.Key("b")); err != nil {
//	        return err
//	    }
//	    w.AppendArrayItem(2)
//	    w.AppendArrayItem(3)
//	    return nil
//	})
//
// produces {"a": 1, "b": [2, 3]}.
//
// # Offsets
//
// A Context reports zero-based stream positions: StartIndex is the first byte
// after the opening delimiter and EndIndex is one past the last byte written
// into the context. Item spans are one-based: Span.Start is
// one past the stream position at which the item's first byte was written and
// Span.End is one past the position after its last byte. Span.Offset and
// Span.Len convert a span to a zero-based range.
//
// A StreamWriter is not safe for concurrent use.
package jsonstream
