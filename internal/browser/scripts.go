package browser

import "fmt"

// onNewDocument turns a function expression into a script that invokes it.
func onNewDocument(fn string) string {
	return "(" + fn + ")();"
}

// stealthJS runs before any page script and masks the most common automation tells.
const stealthJS = `() => {
  try {
    Object.defineProperty(navigator, 'webdriver', { get: () => false });
    Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
    Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
    const query = window.navigator.permissions && window.navigator.permissions.query;
    if (query) {
      window.navigator.permissions.query = (parameters) =>
        parameters && parameters.name === 'notifications'
          ? Promise.resolve({ state: Notification.permission })
          : query.call(window.navigator.permissions, parameters);
    }
    window.chrome = window.chrome || { runtime: {} };
  } catch (e) {}
}`

// fileInputWatcherJS reports clicks on (or focus of) file inputs through the named binding.
func fileInputWatcherJS(binding string) string {
	return fmt.Sprintf(`() => {
  const notify = () => {
    try { window[%[1]q] && window[%[1]q](''); } catch (e) {}
  };
  const isFileInput = (el) =>
    el && el.tagName === 'INPUT' && (el.type || '').toLowerCase() === 'file';
  document.addEventListener('click', (ev) => {
    let el = ev.target;
    for (let depth = 0; el && depth < 5; depth++, el = el.parentElement) {
      if (isFileInput(el)) { notify(); return; }
      if (el.tagName === 'LABEL' && el.control && isFileInput(el.control)) { notify(); return; }
    }
  }, true);
  document.addEventListener('focusin', (ev) => {
    if (isFileInput(ev.target)) notify();
  }, true);
}`, binding)
}

const centerWheelJS = `(dx, dy) => {
  const x = Math.floor(window.innerWidth / 2);
  const y = Math.floor(window.innerHeight / 2);
  const target = document.elementFromPoint(x, y) || document.scrollingElement || document.body;
  if (!target) return;
  target.dispatchEvent(new WheelEvent('wheel', {
    deltaX: dx, deltaY: dy, clientX: x, clientY: y, bubbles: true, cancelable: true,
  }));
}`

const scrollPositionJS = `() => ({ scrollX: window.scrollX || 0, scrollY: window.scrollY || 0 })`

const focusedFileInputJS = `() => {
  const el = document.activeElement;
  if (el && el.tagName === 'INPUT' && (el.type || '').toLowerCase() === 'file') return el;
  return null;
}`
