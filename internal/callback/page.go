package callback

// relayPage posts the full location, fragment included, back to the server.
// Fragments never reach the server on their own.
const relayPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>LearnHub sign-in</title>
<style>
body { font-family: system-ui, sans-serif; background: #111827; color: #f9fafb; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; }
</style>
</head>
<body>
<p id="status">Completing sign-in...</p>
<script>
(function () {
  var status = document.getElementById("status");
  fetch(window.location.pathname + "/complete", {
    method: "POST",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify({ url: window.location.href })
  })
    .then(function (res) { return res.json(); })
    .then(function (body) {
      status.textContent = body.message || "Done.";
      history.replaceState(null, "", window.location.pathname);
    })
    .catch(function (err) {
      status.textContent = "Sign-in failed: " + err;
    });
})();
</script>
</body>
</html>
`
