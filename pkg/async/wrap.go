package async

// ErrAble 在后台运行 fn，结束后把返回的错误写入 channel
func ErrAble(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
		close(ch)
	}()
	return ch
}
