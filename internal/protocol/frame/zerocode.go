package frame

// ZeroEncode collapses runs of zero bytes into 0x00 followed by the run length.
func ZeroEncode(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		if src[i] != 0 {
			out = append(out, src[i])
			i++
			continue
		}
		run := 0
		for i < len(src) && src[i] == 0 && run < 0xFF {
			run++
			i++
		}
		out = append(out, 0x00, byte(run))
	}
	return out
}

// ZeroDecode expands a zerocoded body. max bounds the decoded size; 0 means
// no bound.
func ZeroDecode(src []byte, max int) ([]byte, error) {
	out := make([]byte, 0, len(src)*2)
	for i := 0; i < len(src); i++ {
		if src[i] != 0 {
			out = append(out, src[i])
		} else {
			if i+1 >= len(src) || src[i+1] == 0 {
				return nil, ErrBadZeroCode
			}
			i++
			for n := int(src[i]); n > 0; n-- {
				out = append(out, 0)
			}
		}
		if max > 0 && len(out) > max {
			return nil, ErrBodyTooLarge
		}
	}
	return out, nil
}
