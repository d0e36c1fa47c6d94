package tab

import "fmt"

// BindingName is the page-global function the countdown UI calls to send
// messages back to the timer service. Actuators that support in-page
// callbacks expose it on every page.
const BindingName = "__tabSleep"

// ShowCountdown injects the warning overlay. It is idempotent.
var ShowCountdown = Script{Name: "show-countdown", Source: `() => {
  if (document.getElementById('tab-sleep-timer-countdown')) {
    return;
  }
  const send = (msg) => {
    const fn = window.` + BindingName + `;
    if (typeof fn === 'function') {
      fn(msg);
    }
  };

  const box = document.createElement('div');
  box.id = 'tab-sleep-timer-countdown';
  box.setAttribute('role', 'alert');
  box.setAttribute('aria-live', 'assertive');
  box.style.cssText = 'position:fixed;top:20px;right:20px;background:rgba(0,0,0,0.85);color:#fff;' +
    'padding:16px;border-radius:8px;font-family:sans-serif;font-size:16px;z-index:2147483647;' +
    'box-shadow:0 4px 12px rgba(0,0,0,0.3);text-align:center;';

  const label = document.createElement('div');
  label.textContent = 'Tab will close in:';
  label.style.marginBottom = '8px';

  const time = document.createElement('div');
  time.id = 'tab-sleep-timer-countdown-time';
  time.textContent = '0:00';
  time.style.cssText = 'font-size:20px;font-weight:bold;margin-bottom:12px;';

  const row = document.createElement('div');
  row.style.cssText = 'display:flex;gap:8px;margin-bottom:12px;';
  const button = (text, bg) => {
    const b = document.createElement('button');
    b.textContent = text;
    b.style.cssText = 'flex:1;padding:8px;font-size:14px;border:none;border-radius:4px;cursor:pointer;color:#fff;background:' + bg + ';';
    return b;
  };
  for (const [minutes, text] of [[5, '+5m'], [30, '+30m'], [60, '+1h']]) {
    const b = button(text, '#4285f4');
    b.addEventListener('click', () => {
      send({ action: 'extendTimer', minutes });
      box.remove();
    });
    row.appendChild(b);
  }

  const cancel = button('Cancel Timer', '#ea4335');
  cancel.style.width = '100%';
  cancel.addEventListener('click', () => {
    send({ action: 'cancelTimer' });
    box.remove();
  });

  box.appendChild(label);
  box.appendChild(time);
  box.appendChild(row);
  box.appendChild(cancel);
  document.body.appendChild(box);
}`}

// UpdateCountdown renders the remaining seconds as m:ss. Arg: seconds.
var UpdateCountdown = Script{Name: "update-countdown", Source: `(seconds) => {
  const el = document.getElementById('tab-sleep-timer-countdown-time');
  if (el) {
    const m = Math.floor(seconds / 60);
    const s = seconds % 60;
    el.textContent = m + ':' + String(s).padStart(2, '0');
  }
}`}

// RemoveCountdown removes the overlay if present.
var RemoveCountdown = Script{Name: "remove-countdown", Source: `() => {
  const el = document.getElementById('tab-sleep-timer-countdown');
  if (el) {
    el.remove();
  }
}`}

// FormatRemaining renders seconds the same way the overlay does.
func FormatRemaining(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
