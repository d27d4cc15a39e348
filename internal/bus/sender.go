package bus

// SetSender installs the outbound hook used by Send, or removes it when fn is
// nil, then emits SenderTopic with the new readiness.
func (b *Bus) SetSender(fn func(data any)) {
	b.senderMu.Lock()
	b.post = fn
	b.senderMu.Unlock()
	b.Emit(SenderTopic, SenderStatus{Ready: fn != nil})
}

// Send posts data through the sender hook. It reports false when no sender
// is installed, with ErrSenderNotReady if throwIfOffline is set.
func (b *Bus) Send(data any, throwIfOffline bool) (bool, error) {
	b.senderMu.RLock()
	post := b.post
	b.senderMu.RUnlock()

	if post != nil {
		post(data)
		return true, nil
	}
	if throwIfOffline {
		return false, ErrSenderNotReady
	}
	return false, nil
}

// IsReady reports whether a sender is installed.
func (b *Bus) IsReady() bool {
	b.senderMu.RLock()
	defer b.senderMu.RUnlock()
	return b.post != nil
}
